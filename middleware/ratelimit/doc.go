// Package ratelimit junta as camadas do rate limit por tier e entrega a instância
// por ator usada pelo pipeline de interceptação.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de transporte)
//   - application: casos de uso (classificação operação -> tier, decisão allow/deny, vagas em voo)
//   - infra: implementações concretas (janela fixa em memória/Redis, semáforo, estatísticas)
//   - ratelimit (este pacote): Registry com um Limiter por ator e limpeza de instâncias ociosas
//
// Fluxo por chamada:
//
//  1. O Connection Manager obtém Registry.For(ator) na abertura da conexão
//  2. O interceptor chama Limiter.Consume(ctx, operação)
//  3. A operação é classificada num tier (ou cai no tier de fallback, com warning)
//  4. O WindowStore consome um ponto da janela (ator, tier)
//  5. Se bloqueado, o interceptor responde TOO_MANY_REQUESTS com Retry-After
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam as cotas,
// como RATE_LIMIT_CRITICAL_EXPENSIVE_POINTS e RATE_LIMIT_ANONYMOUS_DURATION.
package ratelimit
