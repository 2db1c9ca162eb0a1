package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// Cliente de validação: abre uma conexão websocket no gateway e dispara N chamadas
// iguais, imprimindo cada resposta. Útil para ver o rate limit por tier em ação.
func main() {
	var (
		url     string
		actor   string
		region  string
		method  string
		params  string
		count   int
		oneway  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cliente-rpc",
		Short: "Dispara chamadas JSON-RPC no gateway via websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var args []any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &args); err != nil {
					return fmt.Errorf("params must be a JSON array: %w", err)
				}
			}

			header := http.Header{}
			if actor != "" {
				header.Set("X-Actor-ID", actor)
			}
			if region != "" {
				header.Set("X-Client-Region", region)
			}

			dialer := websocket.Dialer{HandshakeTimeout: timeout}
			conn, resp, err := dialer.Dial(url, header)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
				}
				return fmt.Errorf("dial %s: %w", url, err)
			}
			defer conn.Close()

			for i := 1; i <= count; i++ {
				req := map[string]any{"jsonrpc": "2.0", "method": method}
				if args != nil {
					req["params"] = args
				}
				if !oneway {
					req["id"] = i
				}
				if err := conn.WriteJSON(req); err != nil {
					return fmt.Errorf("write: %w", err)
				}

				_ = conn.SetReadDeadline(time.Now().Add(timeout))
				_, data, err := conn.ReadMessage()
				if err != nil {
					return fmt.Errorf("read: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d %s\n", i, data)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&url, "url", "ws://localhost:8080/rpc", "endereço websocket do gateway")
	f.StringVar(&actor, "actor", "", "valor do header X-Actor-ID (vazio = anônimo)")
	f.StringVar(&region, "region", "", "valor do header X-Client-Region")
	f.StringVar(&method, "method", "whoAmI", "operação chamada")
	f.StringVar(&params, "params", "", `parâmetros em JSON, ex.: '["titulo","corpo"]'`)
	f.IntVarP(&count, "count", "n", 1, "quantidade de chamadas")
	f.BoolVar(&oneway, "oneway", false, "envia notificações (sem id)")
	f.DurationVar(&timeout, "timeout", 5*time.Second, "timeout de handshake e de cada resposta")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
