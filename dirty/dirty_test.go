package dirty

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quill/model"
)

type Owner struct {
	ID   int `orm:"pk,auto"`
	Name string
}

type Account struct {
	ID      int `orm:"pk,auto"`
	Email   string
	Balance float64
	Holder  *Owner
	Opened  time.Time
	Notes   []byte
	Version int `orm:"version"`
}

type Labeled struct {
	ID     int `orm:"pk,auto"`
	Parent model.Ref[Labeled] `orm:"lazy"`
	Tag    string
}

func changedNames(t *testing.T, strategy Strategy, old, new any) []string {
	t.Helper()
	m, err := model.Of[Account]()
	require.NoError(t, err)
	cols, err := FieldsChanged(m, strategy, old, new)
	require.NoError(t, err)
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names
}

func TestNoChanges(t *testing.T) {
	a := &Account{ID: 1, Email: "a@b", Balance: 10}
	b := &Account{ID: 1, Email: "a@b", Balance: 10}
	assert.Empty(t, changedNames(t, Instance, a, b))

	m, _ := model.Of[Account]()
	dirtyAny, err := Changed(m, Instance, a, b)
	require.NoError(t, err)
	assert.False(t, dirtyAny)
}

func TestScalarChange(t *testing.T) {
	a := &Account{ID: 1, Email: "a@b"}
	b := &Account{ID: 1, Email: "c@d"}
	assert.Equal(t, []string{"email"}, changedNames(t, Instance, a, b))
}

func TestNaNIsNotDirty(t *testing.T) {
	// NaN never compares equal to itself, but an unchanged NaN field
	// must not trigger an update.
	a := &Account{ID: 1, Balance: math.NaN()}
	b := &Account{ID: 1, Balance: math.NaN()}
	assert.Empty(t, changedNames(t, Value, a, b))
}

func TestSignedZeroIsDirty(t *testing.T) {
	a := &Account{ID: 1, Balance: 0.0}
	b := &Account{ID: 1, Balance: math.Copysign(0, -1)}
	assert.Equal(t, []string{"balance"}, changedNames(t, Value, a, b))
}

func TestTimeComparesByInstant(t *testing.T) {
	utc := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("X", 3600))
	a := &Account{ID: 1, Opened: utc}
	b := &Account{ID: 1, Opened: local}
	assert.Empty(t, changedNames(t, Value, a, b))
}

func TestByteSliceComparesByContent(t *testing.T) {
	a := &Account{ID: 1, Notes: []byte("x")}
	b := &Account{ID: 1, Notes: []byte("x")}
	assert.Empty(t, changedNames(t, Value, a, b))

	b.Notes = []byte("y")
	assert.Equal(t, []string{"notes"}, changedNames(t, Value, a, b))
}

func TestInstanceSliceComparesByReference(t *testing.T) {
	notes := []byte("x")
	a := &Account{ID: 1, Notes: notes}
	b := &Account{ID: 1, Notes: notes}
	assert.Empty(t, changedNames(t, Instance, a, b))

	b.Notes = []byte("x")
	assert.Equal(t, []string{"notes"}, changedNames(t, Instance, a, b))
}

func TestValueRelationComparesByKey(t *testing.T) {
	// Different instances, same referenced key: not dirty.
	a := &Account{ID: 1, Holder: &Owner{ID: 7, Name: "Ann"}}
	b := &Account{ID: 1, Holder: &Owner{ID: 7, Name: "Renamed"}}
	assert.Empty(t, changedNames(t, Value, a, b))

	b.Holder = &Owner{ID: 8}
	assert.Equal(t, []string{"holder_id"}, changedNames(t, Value, a, b))

	b.Holder = nil
	assert.Equal(t, []string{"holder_id"}, changedNames(t, Value, a, b))
}

func TestInstanceRelationComparesByReference(t *testing.T) {
	h := &Owner{ID: 7, Name: "Ann"}
	a := &Account{ID: 1, Holder: h}
	b := &Account{ID: 1, Holder: h}
	assert.Empty(t, changedNames(t, Instance, a, b))

	// A copy with identical contents is still a new reference.
	cp := *h
	b.Holder = &cp
	assert.Equal(t, []string{"holder_id"}, changedNames(t, Instance, a, b))

	b.Holder = nil
	assert.Equal(t, []string{"holder_id"}, changedNames(t, Instance, a, b))
}

func TestDeferredReferenceByKey(t *testing.T) {
	m, err := model.Of[Labeled]()
	require.NoError(t, err)

	a := &Labeled{ID: 1, Parent: model.NewRef[Labeled](5)}
	b := &Labeled{ID: 1, Parent: model.NewRef[Labeled](5)}
	cols, err := FieldsChanged(m, Instance, a, b)
	require.NoError(t, err)
	assert.Empty(t, cols)

	b.Parent = model.NewRef[Labeled](6)
	cols, err = FieldsChanged(m, Instance, a, b)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "parent_id", cols[0].Name)
}

func TestNilBaselineReportsEverything(t *testing.T) {
	m, err := model.Of[Account]()
	require.NoError(t, err)
	cols, err := FieldsChanged(m, Instance, nil, &Account{ID: 1})
	require.NoError(t, err)
	assert.Len(t, cols, len(m.DeclaredColumns()))
}

func TestModeStrings(t *testing.T) {
	assert.Equal(t, "off", UpdateOff.String())
	assert.Equal(t, "entity", UpdateEntity.String())
	assert.Equal(t, "field", UpdateField.String())
	assert.Equal(t, "instance", Instance.String())
	assert.Equal(t, "value", Value.String())
}
