package vfs

import (
	"context"

	"github.com/GriffinCanCode/webkernel/internal/resource"
)

// FileResource puts an open File into a resource table.
type FileResource struct {
	File
	Path string
}

// NewFileResource wraps f opened at path.
func NewFileResource(f File, path string) *FileResource {
	return &FileResource{File: f, Path: path}
}

// Kind reports the file's own tag when it has one (devices, fifos), else
// KindFile.
func (r *FileResource) Kind() resource.Kind {
	if k, ok := r.File.(interface{ Kind() resource.Kind }); ok {
		return k.Kind()
	}
	return resource.KindFile
}

func (r *FileResource) ReadContext(ctx context.Context, p []byte) (int, error) {
	if cr, ok := r.File.(resource.ContextReader); ok {
		return cr.ReadContext(ctx, p)
	}
	return r.File.Read(p)
}

func (r *FileResource) WriteContext(ctx context.Context, p []byte) (int, error) {
	if cw, ok := r.File.(resource.ContextWriter); ok {
		return cw.WriteContext(ctx, p)
	}
	return r.File.Write(p)
}
