// Command quillgen generates typed metamodel path helpers from a YAML
// manifest.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/syssam/quill/gen"
)

var (
	manifestPath string
	watch        bool
)

func main() {
	root := &cobra.Command{
		Use:   "quillgen",
		Short: "generate typed metamodel path helpers",
	}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "generate path helpers from the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return err
			}
			if watch {
				return watchManifest()
			}
			return nil
		},
	}
	generate.Flags().StringVarP(&manifestPath, "manifest", "m", "quill.yaml", "manifest file")
	generate.Flags().BoolVarP(&watch, "watch", "w", false, "regenerate when the manifest changes")
	root.AddCommand(generate)
	if err := root.Execute(); err != nil {
		color.Red("quillgen: %v", err)
		os.Exit(1)
	}
}

func run() error {
	m, err := gen.Load(manifestPath)
	if err != nil {
		return err
	}
	written, err := gen.Write(m)
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Printf("%s %s\n", color.GreenString("wrote"), path)
	}
	return nil
}

// watchManifest blocks, regenerating on every write to the manifest.
// Editors often replace files instead of writing in place, so the
// watch covers the manifest's directory and filters by name.
func watchManifest() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir := filepath.Dir(manifestPath)
	if err := w.Add(dir); err != nil {
		return err
	}
	color.Cyan("watching %s", manifestPath)
	var last time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(manifestPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce bursts from editors writing in chunks.
			if time.Since(last) < 100*time.Millisecond {
				continue
			}
			last = time.Now()
			if err := run(); err != nil {
				color.Red("quillgen: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			color.Yellow("quillgen: watch: %v", err)
		}
	}
}
