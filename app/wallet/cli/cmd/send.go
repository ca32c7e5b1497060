package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	sendTo    string
	sendValue uint64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send coins from the selected key to another address",
	Run:   sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "Recipient address in hex.")
	sendCmd.Flags().Uint64VarP(&sendValue, "value", "v", 0, "Value to send.")
}

func sendRun(cmd *cobra.Command, args []string) {
	req := struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Value uint64 `json:"value"`
	}{
		From:  accountName,
		To:    sendTo,
		Value: sendValue,
	}

	data, err := json.Marshal(req)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(nodeURL+"/v1/tx/send", "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(body))
}
