package handle

import (
	"testing"

	kernelerror "nucleus/kernel/error"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct{ kind Kind }

func (f fakeObject) Kind() Kind { return f.kind }

func TestAddGetDelete(t *testing.T) {
	tbl := NewTable(4)
	obj := fakeObject{kind: KindThread}

	id, err := tbl.Add(obj)
	require.Nil(t, err)
	assert.NotZero(t, id)

	got, err := tbl.Get(id)
	require.Nil(t, err)
	assert.Equal(t, obj, got)

	_, err = tbl.Delete(id)
	require.Nil(t, err)

	_, err = tbl.Get(id)
	require.NotNil(t, err)
	assert.Equal(t, kernelerror.InvalidHandle, err.Kind)
}

func TestTableIsBounded(t *testing.T) {
	tbl := NewTable(2)

	_, err := tbl.Add(fakeObject{})
	require.Nil(t, err)
	_, err = tbl.Add(fakeObject{})
	require.Nil(t, err)

	_, err = tbl.Add(fakeObject{})
	require.NotNil(t, err)
	assert.Equal(t, kernelerror.ExceedingMaximum, err.Kind)
}
