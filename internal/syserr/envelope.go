package syserr

import (
	"errors"
	"fmt"
	"strings"
)

// GenericClassName is used for errors that do not map onto a kind.
const GenericClassName = "Error"

// Envelope is what an op returns in place of throwing across the boundary.
type Envelope struct {
	ClassName string `json:"$err_class_name" mapstructure:"$err_class_name"`
	Code      string `json:"code,omitempty" mapstructure:"code"`
	Errno     int    `json:"errno,omitempty" mapstructure:"errno"`
	Message   string `json:"message" mapstructure:"message"`
	Stack     string `json:"stack,omitempty" mapstructure:"stack"`
}

func (e *Envelope) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.ClassName, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ClassName, e.Message)
}

// Kind recovers the kind an envelope was built from.
func (e *Envelope) Kind() Kind {
	for k, info := range kinds {
		if info.name == e.ClassName {
			return k
		}
	}
	return KindUnknown
}

// ToEnvelope reduces err to the wire envelope. Recognized kinds keep their
// class name and code; everything else becomes a generic "Error".
func ToEnvelope(err error) *Envelope {
	if err == nil {
		return nil
	}

	var env *Envelope
	if errors.As(err, &env) {
		return env
	}

	out := &Envelope{
		ClassName: GenericClassName,
		Message:   err.Error(),
		Stack:     stackOf(err),
	}
	if kind, ok := KindOf(err); ok && kind != KindUnknown {
		out.ClassName = kind.String()
		out.Code = kind.Code()
		out.Errno = kind.Errno()
	}
	return out
}

// stackOf renders the wrap chain, outermost first. Go errors carry no call
// stack, the chain is the closest equivalent a guest can display.
func stackOf(err error) string {
	var b strings.Builder
	b.WriteString(GenericClassName)
	b.WriteString(": ")
	b.WriteString(err.Error())
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		b.WriteString("\n    caused by: ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

// AsEnvelope reports whether an op result is an error envelope.
func AsEnvelope(v interface{}) (*Envelope, bool) {
	switch e := v.(type) {
	case *Envelope:
		return e, e != nil
	case Envelope:
		return &e, true
	case map[string]interface{}:
		name, ok := e["$err_class_name"].(string)
		if !ok {
			return nil, false
		}
		env := &Envelope{ClassName: name}
		env.Code, _ = e["code"].(string)
		env.Message, _ = e["message"].(string)
		env.Stack, _ = e["stack"].(string)
		switch n := e["errno"].(type) {
		case float64:
			env.Errno = int(n)
		case int64:
			env.Errno = int(n)
		case int:
			env.Errno = n
		}
		return env, true
	}
	return nil, false
}
