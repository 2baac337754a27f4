package order

import (
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment"
)

type Action string

const (
	ActionNone     Action = "none"
	ActionDiscard  Action = "discard"
	ActionComplete Action = "complete"
	ActionAnnotate Action = "annotate"
	ActionCancel   Action = "cancel"
)

const (
	NoteConfirmed = "Payment confirmed by BitPay."
	NoteComplete  = "Payment complete in BitPay."
	NoteExpired   = "Payment expired."
	NoteInvalid   = "Payment rejected by BitPay."
)

// Transition is the effect a verified notification has on an order. From is
// the status the order must still hold when the transition is written.
type Transition struct {
	OrderID int64
	Action  Action
	From    OrderStatus
	To      OrderStatus
	Note    string
}

// completable lists the statuses a confirmed payment may move out of. A
// cancelled order is included because the coins have been received.
var completable = map[OrderStatus]bool{
	StatusPending:   true,
	StatusCancelled: true,
}

// Apply maps a verified notification onto the order. It is pure: re-applying
// a status to an order already in the matching state yields ActionNone.
func Apply(o *Order, prefix string, n *payment.VerifiedNotification) Transition {
	id, ok := payment.ParseReference(prefix, n.Reference)
	if o == nil || !ok || id != o.ID {
		return Transition{OrderID: id, Action: ActionDiscard}
	}

	t := Transition{OrderID: o.ID, Action: ActionNone, From: o.Status, To: o.Status}

	switch n.Status {
	case payment.StatusConfirmed:
		if !completable[o.Status] {
			return t
		}
		t.Action = ActionComplete
		t.To = StatusCompleted
		if o.NeedsProcessing {
			t.To = StatusProcessing
		}
		t.Note = NoteConfirmed

	case payment.StatusComplete:
		if o.Metadata[MetaFinalized] != "" {
			return t
		}
		t.Action = ActionAnnotate
		t.Note = NoteComplete

	case payment.StatusExpired:
		return cancel(t, NoteExpired)

	case payment.StatusInvalid:
		return cancel(t, NoteInvalid)
	}

	return t
}

func cancel(t Transition, reason string) Transition {
	if t.From != StatusPending {
		return t
	}
	t.Action = ActionCancel
	t.To = StatusCancelled
	t.Note = reason
	return t
}
