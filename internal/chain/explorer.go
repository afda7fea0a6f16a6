package chain

import "strings"

// ExplorerURL links a signature on the public Solana explorer.
func ExplorerURL(signature, network string) string {
	if signature == "" {
		return ""
	}
	url := "https://explorer.solana.com/tx/" + signature
	switch n := strings.ToLower(network); n {
	case "", "mainnet", "mainnet-beta":
		return url
	default:
		return url + "?cluster=" + n
	}
}
