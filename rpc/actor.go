package rpc

import "strings"

// Actor identifica em nome de quem uma conexão age.
//
// O ID vazio é o sentinela anônimo. Um Actor não muda durante a vida da conexão.
type Actor struct {
	ID string
}

// Anonymous é o sentinela para conexões sem identidade autenticada.
var Anonymous = Actor{}

// NewActor devolve Anonymous quando id é vazio.
func NewActor(id string) Actor {
	return Actor{ID: strings.TrimSpace(id)}
}

func (a Actor) IsAnonymous() bool { return a.ID == "" }

func (a Actor) String() string {
	if a.IsAnonymous() {
		return "anonymous"
	}
	return a.ID
}
