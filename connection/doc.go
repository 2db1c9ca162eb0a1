// Package connection cria, registra e encerra as conexões do gateway.
//
// Para cada conexão nova o Manager resolve o ator, monta os guards, busca o Limiter
// do ator no Registry, instancia um handler privado e o envolve num Interceptor.
// O fechamento é idempotente: a conexão sai do conjunto vivo e os observadores são
// notificados exatamente uma vez.
package connection
