package verifier

import "errors"

var (
	errInvalidToken  = errors.New("verifier: invalid token")
	errExpiredToken  = errors.New("verifier: token expired")
	errInactiveToken = errors.New("verifier: token inactive")
)
