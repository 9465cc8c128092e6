// Package reflector names Go types for use as stable identifiers.
package reflector

import (
	"reflect"
	"sync"
)

var cache sync.Map // reflect.Type -> TypeInfo

// TypeInfo describes a named type with any pointer indirection removed.
type TypeInfo struct {
	Name  string // import path qualified, e.g. "example.com/pkg.Thing"
	Short string // bare type name, e.g. "Thing"
	Type  reflect.Type
}

func (ti TypeInfo) IsZero() bool { return ti.Type == nil }

// TypeInfoOf describes the dynamic type of x.
func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

// TypeInfoFor describes T.
func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType describes t. *T and T yield the same TypeInfo.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if v, ok := cache.Load(t); ok {
		return v.(TypeInfo)
	}

	ti := TypeInfo{Short: t.Name(), Type: t}
	switch {
	case t.Name() == "":
		ti.Name = t.String()
		ti.Short = t.String()
	case t.PkgPath() == "":
		ti.Name = t.Name()
	default:
		ti.Name = t.PkgPath() + "." + t.Name()
	}

	v, _ := cache.LoadOrStore(t, ti)
	return v.(TypeInfo)
}
