package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers sendTransaction, getSignatureStatuses and getTransaction.
// getTransaction returns null until fee is set.
type fakeNode struct {
	mu        sync.Mutex
	sent      []string
	sendErr   string
	statusErr interface{}
	sig       solana.Signature
	fee       uint64
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch req.Method {
	case "sendTransaction":
		var encoded string
		_ = json.Unmarshal(req.Params[0], &encoded)
		n.sent = append(n.sent, encoded)
		if n.sendErr != "" {
			resp["error"] = map[string]interface{}{"code": -32002, "message": n.sendErr}
		} else {
			resp["result"] = n.sig.String()
		}
	case "getSignatureStatuses":
		resp["result"] = map[string]interface{}{
			"context": map[string]interface{}{"slot": 10},
			"value": []interface{}{map[string]interface{}{
				"slot":               10,
				"confirmations":      nil,
				"err":                n.statusErr,
				"confirmationStatus": "confirmed",
			}},
		}
	case "getTransaction":
		resp["result"] = nil
		if n.fee > 0 {
			resp["result"] = map[string]interface{}{
				"slot": 10,
				"meta": map[string]interface{}{
					"err":          nil,
					"fee":          n.fee,
					"preBalances":  []uint64{},
					"postBalances": []uint64{},
				},
			}
		}
	default:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func newSubmitter(t *testing.T, node *fakeNode, maxRetries int) (*FeePayerSubmitter, solana.PrivateKey) {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	payer := solana.NewWallet().PrivateKey
	s := NewFeePayerSubmitter(rpc.New(srv.URL), payer, "devnet", maxRetries, nil)
	s.statusWait = time.Millisecond
	return s, payer
}

func unsignedTx(t *testing.T, feePayer solana.PublicKey) string {
	t.Helper()
	tx := &solana.Transaction{
		Signatures: []solana.Signature{{}},
		Message: solana.Message{
			Header:          solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys:     solana.PublicKeySlice{feePayer, solana.SystemProgramID},
			RecentBlockhash: solana.Hash{7},
			Instructions: []solana.CompiledInstruction{{
				ProgramIDIndex: 1,
				Data:           []byte("hello"),
			}},
		},
	}
	encoded, err := utils.EncodeBase64Tx(tx)
	require.NoError(t, err)
	return encoded
}

func TestSubmit_SignsAndBroadcasts(t *testing.T) {
	node := &fakeNode{sig: solana.Signature{9, 9, 9}}
	s, payer := newSubmitter(t, node, 3)

	sub, err := s.Submit(context.Background(), Operation{SerializedTx: unsignedTx(t, payer.PublicKey()), UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, node.sig.String(), sub.Signature)
	assert.Equal(t, uint64(5000), sub.Fee)
	assert.Equal(t, ExplorerURL(node.sig.String(), "devnet"), sub.ExplorerURL)

	require.Equal(t, 1, node.sentCount())
	sent, err := utils.DecodeBase64Tx(node.sent[0])
	require.NoError(t, err)
	assert.NoError(t, sent.VerifySignatures())
}

func TestSubmit_ReportsChargedFee(t *testing.T) {
	node := &fakeNode{sig: solana.Signature{5}, fee: 12_500}
	s, payer := newSubmitter(t, node, 3)

	sub, err := s.Submit(context.Background(), Operation{SerializedTx: unsignedTx(t, payer.PublicKey())})
	require.NoError(t, err)
	// base fee plus a compute-budget priority fee
	assert.Equal(t, uint64(12_500), sub.Fee)
}

func TestSubmit_RejectsForeignFeePayer(t *testing.T) {
	node := &fakeNode{sig: solana.Signature{1}}
	s, _ := newSubmitter(t, node, 3)

	_, err := s.Submit(context.Background(), Operation{SerializedTx: unsignedTx(t, solana.NewWallet().PublicKey())})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = s.Submit(context.Background(), Operation{SerializedTx: "not base64"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = s.Submit(context.Background(), Operation{})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	assert.Zero(t, node.sentCount())
}

func TestSubmit_ExpiredBlockhashStopsRetrying(t *testing.T) {
	node := &fakeNode{sendErr: "Transaction simulation failed: Blockhash not found"}
	s, payer := newSubmitter(t, node, 3)

	_, err := s.Submit(context.Background(), Operation{SerializedTx: unsignedTx(t, payer.PublicKey())})
	require.ErrorIs(t, err, models.ErrSubmission)
	assert.Contains(t, err.Error(), "rebuild and re-sign")
	assert.Equal(t, 1, node.sentCount())
}

func TestSubmit_FailedStatusExhaustsRetries(t *testing.T) {
	node := &fakeNode{
		sig:       solana.Signature{4},
		statusErr: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	}
	s, payer := newSubmitter(t, node, 2)

	_, err := s.Submit(context.Background(), Operation{SerializedTx: unsignedTx(t, payer.PublicKey())})
	require.ErrorIs(t, err, models.ErrSubmission)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, node.sentCount())
}
