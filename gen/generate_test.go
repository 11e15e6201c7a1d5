package gen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func petManifest() *Manifest {
	return &Manifest{
		Package: "store",
		Entities: map[string]Entity{
			"Owner": {Fields: []Field{
				{Name: "ID", PK: true, Auto: true},
				{Name: "Name"},
			}},
			"Pet": {Fields: []Field{
				{Name: "ID", PK: true, Auto: true},
				{Name: "Name"},
				{Name: "Owner", Ref: "Owner", Nullable: true},
			}},
		},
	}
}

func TestGenerateEntityFiles(t *testing.T) {
	files, err := Generate(petManifest())
	require.NoError(t, err)
	require.Len(t, files, 2)

	pet := string(files["pet_meta.go"])
	assert.Contains(t, pet, "Code generated by quillgen. DO NOT EDIT.")
	assert.Contains(t, pet, "package store")
	assert.Contains(t, pet, "type PetPath struct")
	assert.Contains(t, pet, "func PetP() PetPath")
	assert.Contains(t, pet, `model.PathOf[Pet]("")`)
	// Scalar fields terminate in a model.Path, references descend into
	// the target's path struct.
	assert.Contains(t, pet, "func (p PetPath) Name() model.Path")
	assert.Contains(t, pet, "func (p PetPath) Owner() OwnerPath")
	assert.Contains(t, pet, `p.base.Dot("Owner")`)

	owner := string(files["owner_meta.go"])
	assert.Contains(t, owner, "type OwnerPath struct")
	assert.Contains(t, owner, "func (p OwnerPath) ID() model.Path")
}

func TestWriteCreatesOutputDir(t *testing.T) {
	m := petManifest()
	m.Output = filepath.Join(t.TempDir(), "meta")

	written, err := Write(m)
	require.NoError(t, err)
	require.Len(t, written, 2)
	// Deterministic order: sorted by entity name.
	assert.Equal(t, "owner_meta.go", filepath.Base(written[0]))
	assert.Equal(t, "pet_meta.go", filepath.Base(written[1]))
	for _, p := range written {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
package: store
output: ./meta
entities:
  Owner:
    fields:
      - name: ID
        pk: true
        auto: true
      - name: Name
  Pet:
    table: pets
    fields:
      - name: ID
        pk: true
        auto: true
      - name: Owner
        ref: Owner
        nullable: true
`), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "store", m.Package)
	assert.Equal(t, "./meta", m.Output)
	assert.Equal(t, []string{"Owner", "Pet"}, m.Names())
	assert.Equal(t, "pets", m.Entities["Pet"].Table)
	assert.True(t, m.Entities["Pet"].Fields[1].Nullable)
}

func TestValidateRejectsBadManifests(t *testing.T) {
	cases := []struct {
		name string
		m    Manifest
		want string
	}{
		{
			name: "no package",
			m:    Manifest{Entities: map[string]Entity{"A": {Fields: []Field{{Name: "ID"}}}}},
			want: "no package",
		},
		{
			name: "no entities",
			m:    Manifest{Package: "p"},
			want: "no entities",
		},
		{
			name: "unexported entity",
			m:    Manifest{Package: "p", Entities: map[string]Entity{"pet": {Fields: []Field{{Name: "ID"}}}}},
			want: "exported",
		},
		{
			name: "duplicate field",
			m: Manifest{Package: "p", Entities: map[string]Entity{
				"Pet": {Fields: []Field{{Name: "ID"}, {Name: "ID"}}},
			}},
			want: "twice",
		},
		{
			name: "dangling ref",
			m: Manifest{Package: "p", Entities: map[string]Entity{
				"Pet": {Fields: []Field{{Name: "Owner", Ref: "Owner"}}},
			}},
			want: "unknown entity",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
