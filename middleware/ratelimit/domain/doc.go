// Package domain define contratos e tipos de domínio para rate limit por tier e
// limite de concorrência.
//
// Este pacote não depende de transporte nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
