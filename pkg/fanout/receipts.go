package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baithak/sandesh/pkg/model"
	"github.com/baithak/sandesh/pkg/store"
)

// Receipts applies read-mark requests and propagates receipts to the original
// sender.
type Receipts struct {
	Store store.Store
	Reg   Pusher
	Log   *slog.Logger
}

// MarkRead flips every stored unread message from peerID to readerID and, if
// anything actually changed, pushes a read_receipt to peerID's live
// connection. Calling it with nothing outstanding is a no-op: no store
// change, no push. The store serialises the flip per conversation, so
// concurrent calls for the same pair cannot double-push.
func (r *Receipts) MarkRead(ctx context.Context, readerID, peerID string) error {
	n, err := r.Store.MarkRead(ctx, readerID, peerID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n == 0 {
		return nil
	}

	delivered := r.Reg.Push(peerID, model.Event{Type: model.EventReadReceipt, ReaderID: readerID})
	r.Log.Debug("read receipt",
		"reader", readerID, "peer", peerID, "flipped", n, "delivered", delivered)
	return nil
}
