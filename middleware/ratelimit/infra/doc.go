// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryWindowStore: janelas fixas em memória, com limpeza de chaves ociosas
//   - RedisWindowStore: janelas fixas no Redis (script Lua atômico), compartilhadas entre instâncias
//   - MemoryStatsStore / RedisStatsStore: estatísticas de decisão
//   - ChanPool: semáforo simples para limite de chamadas em voo
package infra
