package gen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dave/jennifer/jen"
)

const modelPkg = "github.com/syssam/quill/model"

// Generate produces one source file per entity, keyed by file name.
func Generate(m *Manifest) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.Entities))
	for _, name := range m.Names() {
		f, err := genEntity(m, name)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := f.Render(&buf); err != nil {
			return nil, fmt.Errorf("gen: rendering %s: %w", name, err)
		}
		out[fileName(name)] = buf.Bytes()
	}
	return out, nil
}

// Write generates and writes every file into the manifest's output
// directory, creating it if needed.
func Write(m *Manifest) ([]string, error) {
	files, err := Generate(m)
	if err != nil {
		return nil, err
	}
	dir := m.Output
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gen: creating output dir: %w", err)
	}
	written := make([]string, 0, len(files))
	for _, name := range m.Names() {
		fn := fileName(name)
		path := filepath.Join(dir, fn)
		if err := os.WriteFile(path, files[fn], 0o644); err != nil {
			return nil, fmt.Errorf("gen: writing %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func fileName(entity string) string {
	return strings.ToLower(entity) + "_meta.go"
}

// genEntity builds the path-helper file for one entity: a path struct
// with one method per field, returning either a terminal model.Path or
// the referenced entity's path struct for further navigation.
func genEntity(m *Manifest, name string) (*jen.File, error) {
	f := jen.NewFile(m.Package)
	f.HeaderComment("Code generated by quillgen. DO NOT EDIT.")

	pathType := name + "Path"
	ctor := name + "P"

	f.Commentf("%s navigates metamodel paths rooted at %s.", pathType, name)
	f.Type().Id(pathType).Struct(
		jen.Id("base").Qual(modelPkg, "Path"),
	)

	f.Commentf("%s returns the path root for %s.", ctor, name)
	f.Func().Id(ctor).Params().Id(pathType).Block(
		jen.Return(jen.Id(pathType).Values(jen.Dict{
			jen.Id("base"): jen.Qual(modelPkg, "PathOf").Index(jen.Id(name)).Call(jen.Lit("")),
		})),
	)

	f.Comment("Path returns the path accumulated so far.")
	f.Func().Params(jen.Id("p").Id(pathType)).Id("Path").Params().Qual(modelPkg, "Path").Block(
		jen.Return(jen.Id("p").Dot("base")),
	)

	e := m.Entities[name]
	for _, fld := range e.Fields {
		if fld.Ref != "" {
			refType := fld.Ref + "Path"
			f.Commentf("%s descends into the %s reference.", fld.Name, fld.Ref)
			f.Func().Params(jen.Id("p").Id(pathType)).Id(fld.Name).Params().Id(refType).Block(
				jen.Return(jen.Id(refType).Values(jen.Dict{
					jen.Id("base"): jen.Id("p").Dot("base").Dot("Dot").Call(jen.Lit(fld.Name)),
				})),
			)
			continue
		}
		f.Commentf("%s is the path to the %s field.", fld.Name, fld.Name)
		f.Func().Params(jen.Id("p").Id(pathType)).Id(fld.Name).Params().Qual(modelPkg, "Path").Block(
			jen.Return(jen.Id("p").Dot("base").Dot("Dot").Call(jen.Lit(fld.Name))),
		)
	}
	return f, nil
}
