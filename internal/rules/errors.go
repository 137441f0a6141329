package rules

import "errors"

var (
	ErrUnknownOperator = errors.New("unknown condition operator")
	ErrInvalidPattern  = errors.New("invalid regex pattern in condition")
	ErrInvalidRule     = errors.New("invalid routing rule")
)
