// Package websocket é o adapter de transporte: conexões websocket persistentes
// falando JSON-RPC 2.0.
//
// Fluxo por conexão:
//
//  1. Limita a taxa de upgrades (token bucket, golang.org/x/time/rate)
//  2. Extrai a identidade confiável do upstream (headers) e abre a conexão no Manager;
//     WithSessionExtender liga a sessão do upstream, renovada a cada chamada
//  3. Cada requisição roda em paralelo, limitada por MaxInFlight vagas
//  4. Notificações JSON-RPC (sem id) são mensagens one-way e sempre são rejeitadas
//  5. No fim da leitura as chamadas em voo terminam e então a conexão é fechada no Manager
//
// O gateway não gerencia sessões: quem tem uma sessão para renovar (cookie, token
// com sliding expiration) a entrega por WithSessionExtender em HeaderIdentity.
package websocket
