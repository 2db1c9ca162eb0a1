package guard

// FunctionGuard decide se uma operação pode ser invocada.
type FunctionGuard interface {
	CanAccess(operation string) bool
}

// FunctionGuardFunc adapta uma função em FunctionGuard.
type FunctionGuardFunc func(operation string) bool

func (f FunctionGuardFunc) CanAccess(operation string) bool { return f(operation) }

// AllowAll libera qualquer operação. É o padrão quando nenhum guard é informado
// (canais internos/confiáveis).
var AllowAll FunctionGuard = FunctionGuardFunc(func(string) bool { return true })

// AllowOperations libera apenas as operações listadas.
func AllowOperations(ops ...string) FunctionGuard {
	set := toSet(ops)
	return FunctionGuardFunc(func(op string) bool {
		_, ok := set[op]
		return ok
	})
}

// DenyOperations bloqueia as operações listadas e libera o resto.
func DenyOperations(ops ...string) FunctionGuard {
	set := toSet(ops)
	return FunctionGuardFunc(func(op string) bool {
		_, ok := set[op]
		return !ok
	})
}

func toSet(ops []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}
