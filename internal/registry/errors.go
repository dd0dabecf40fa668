package registry

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTemplate  = errors.New("unknown template")
	ErrUnknownAgentType = errors.New("unknown agent type")
)

type UnknownTemplateError struct {
	Name string
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("unknown template %q", e.Name)
}

func (e *UnknownTemplateError) Is(target error) bool {
	return target == ErrUnknownTemplate
}

type UnknownAgentTypeError struct {
	Type string
}

func (e *UnknownAgentTypeError) Error() string {
	return fmt.Sprintf("unknown agent type %q", e.Type)
}

func (e *UnknownAgentTypeError) Is(target error) bool {
	return target == ErrUnknownAgentType
}
