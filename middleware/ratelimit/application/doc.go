// Package application contém os casos de uso (regras de aplicação) para rate limit
// por tier e limite de chamadas em voo.
//
// Ele depende apenas do pacote domain e não conhece o transporte.
// Ex.: Service.Consume(ctx, ator, operação) classifica a operação, escolhe a janela
// (ator, tier) e retorna uma Decision (allow/deny + retry-after).
package application
