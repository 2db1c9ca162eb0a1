package rpc

import (
	"errors"
	"fmt"
	"time"
)

// Code é o código estável exposto ao chamador numa Rejection.
type Code string

const (
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeTooManyRequests  Code = "TOO_MANY_REQUESTS"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeInternal         Code = "INTERNAL"
)

// RetryAfterDetail é a chave de Details com o atraso sugerido, em segundos.
const RetryAfterDetail = "Retry-After"

// Rejection é uma falha estruturada, destinada ao chamador.
//
// Handlers podem devolver uma Rejection (direta ou embrulhada) para que ela seja
// propagada sem alteração; qualquer outro erro vira CodeInternal no pipeline.
type Rejection struct {
	code    Code
	message string
	details map[string]any
}

// NewRejection cria uma Rejection com a mensagem literal, sem formatação.
func NewRejection(code Code, message string) *Rejection {
	return &Rejection{code: code, message: message}
}

// Rejectf formata a mensagem como fmt.Sprintf.
func Rejectf(code Code, format string, args ...any) *Rejection {
	return NewRejection(code, fmt.Sprintf(format, args...))
}

func PermissionDenied(format string, args ...any) *Rejection {
	return Rejectf(CodePermissionDenied, format, args...)
}

func InvalidRequest(format string, args ...any) *Rejection {
	return Rejectf(CodeInvalidRequest, format, args...)
}

// Internal é o sinal genérico de erro interno; nunca carrega a causa original.
func Internal() *Rejection {
	return NewRejection(CodeInternal, "internal error")
}

// TooManyRequests carrega o Retry-After em segundos inteiros.
func TooManyRequests(retryAfterSeconds int) *Rejection {
	return NewRejection(CodeTooManyRequests, "rate limit exceeded").
		WithDetail(RetryAfterDetail, retryAfterSeconds)
}

// WithDetail devolve uma cópia com o detalhe adicionado.
func (r *Rejection) WithDetail(key string, value any) *Rejection {
	if r == nil {
		return nil
	}
	details := make(map[string]any, len(r.details)+1)
	for k, v := range r.details {
		details[k] = v
	}
	details[key] = value
	return &Rejection{code: r.code, message: r.message, details: details}
}

func (r *Rejection) Code() Code { return r.code }

func (r *Rejection) Message() string { return r.message }

// Details devolve uma cópia; nil quando não há detalhes.
func (r *Rejection) Details() map[string]any {
	if len(r.details) == 0 {
		return nil
	}
	out := make(map[string]any, len(r.details))
	for k, v := range r.details {
		out[k] = v
	}
	return out
}

// RetryAfter devolve o atraso sugerido quando a rejeição é de rate limit.
func (r *Rejection) RetryAfter() (time.Duration, bool) {
	v, ok := r.details[RetryAfterDetail]
	if !ok {
		return 0, false
	}
	secs, ok := v.(int)
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.code, r.message)
}

// AsRejection procura uma Rejection na cadeia de err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) && rej != nil {
		return rej, true
	}
	return nil, false
}

// CodeOf devolve o código de err; erros que não são Rejection valem CodeInternal.
func CodeOf(err error) Code {
	if rej, ok := AsRejection(err); ok {
		return rej.Code()
	}
	return CodeInternal
}
