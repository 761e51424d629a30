package devfs

import (
	"context"
	"io"
	"sync"

	"github.com/GriffinCanCode/webkernel/internal/pipe"
)

// Console is the terminal device. Output goes to a sink, input is whatever
// the host feeds into it.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	input *pipe.Pipe
	cols  int
	rows  int
}

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer, capacity int) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{
		out:   out,
		input: pipe.New(capacity),
		cols:  80,
		rows:  24,
	}
}

func (c *Console) Read(p []byte) (int, error) {
	return c.input.Read(p)
}

func (c *Console) ReadContext(ctx context.Context, p []byte) (int, error) {
	return c.input.ReadContext(ctx, p)
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Input feeds bytes typed at the host into the console.
func (c *Console) Input(p []byte) error {
	_, err := c.input.Write(p)
	return err
}

// EndInput signals end of input; pending and future reads see EOF.
func (c *Console) EndInput() {
	c.input.Close()
}

// Size returns the terminal dimensions.
func (c *Console) Size() (cols, rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cols, c.rows
}

// Resize updates the terminal dimensions.
func (c *Console) Resize(cols, rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cols, c.rows = cols, rows
}
