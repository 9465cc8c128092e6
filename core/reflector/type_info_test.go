package reflector

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type classBooked struct{ Name string }

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(classBooked{})
	require.Equal(t, "github.com/tstuttard/eventsourcing/core/reflector.classBooked", ti.Name)
	require.Equal(t, "classBooked", ti.Short)
	require.False(t, ti.IsZero())
}

func TestTypeInfoOf_pointerIsElem(t *testing.T) {
	require.Equal(t, TypeInfoOf(classBooked{}), TypeInfoOf(&classBooked{}))
	pp := new(*classBooked)
	require.Equal(t, TypeInfoFor[classBooked](), TypeInfoOf(pp))
	require.NotEqual(t, reflect.Pointer, TypeInfoOf(&classBooked{}).Type.Kind())
}

func TestTypeInfoOf_builtinAndUnnamed(t *testing.T) {
	require.Equal(t, "int", TypeInfoOf(1).Name)
	require.Equal(t, "[]string", TypeInfoOf([]string{}).Name)
	require.True(t, TypeInfoOf(nil).IsZero())
}

func TestTypeInfoFor_concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, "classBooked", TypeInfoFor[classBooked]().Short)
		}()
	}
	wg.Wait()
}
