// Package guard responde duas perguntas de autorização por conexão:
//
//   - FunctionGuard: este ator pode invocar esta operação?
//   - ResourceGuard: este ator pode tocar este recurso?
//
// Guards de recurso se compõem com AnyOf (OU lógico): um recurso pode ser alcançado
// por caminhos independentes (dono, compartilhamento) e qualquer um deles basta.
package guard
