// Package rpc define o contrato de chamada compartilhado entre transporte, pipeline
// de interceptação e handlers de negócio.
//
// Ele não conhece rate limit, guards nem websocket: apenas os tipos que atravessam
// essas camadas (Actor, Session, Methods, Rejection).
package rpc
