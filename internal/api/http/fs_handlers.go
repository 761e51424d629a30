package http

import (
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

const maxUpload = 32 << 20

// Mounts lists the mount table.
func (h *Handlers) Mounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mounts": h.kernel.FS().Mounts()})
}

// ReadPath returns a file's bytes with a sniffed content type, or a
// directory's entries as JSON.
func (h *Handlers) ReadPath(c *gin.Context) {
	name := vfs.Clean(c.Param("path"))
	fsys := h.kernel.FS()

	st, err := fsys.Stat(name)
	if err != nil {
		fail(c, err)
		return
	}
	if st.IsDir() {
		entries, err := fsys.Readdir(name)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"path": name, "entries": entries})
		return
	}

	data, err := fsys.ReadFile(name)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// WritePath replaces a file with the request body.
func (h *Handlers) WritePath(c *gin.Context) {
	name := vfs.Clean(c.Param("path"))
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUpload+1))
	if err != nil {
		fail(c, err)
		return
	}
	if len(data) > maxUpload {
		fail(c, syserr.Errorf(syserr.InvalidArgument, "write", "body exceeds %d bytes", maxUpload))
		return
	}
	if err := h.kernel.FS().WriteFile(name, data, vfs.DefaultFileMode); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": name, "size": len(data)})
}
