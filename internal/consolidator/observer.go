package consolidator

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-sweeper/internal/events"
)

// TxRecorder receives per-transaction metrics.
type TxRecorder interface {
	RecordTransaction(operation string, err error, latency time.Duration)
}

// TxObserver forwards executor notifications to the event bus and metrics,
// tagged with the operation currently running.
type TxObserver struct {
	pub events.Publisher
	rec TxRecorder

	mu      sync.Mutex
	session string
	op      string
}

// NewTxObserver creates an observer. Either argument may be nil.
func NewTxObserver(pub events.Publisher, rec TxRecorder) *TxObserver {
	return &TxObserver{pub: pub, rec: rec}
}

func (o *TxObserver) begin(session, op string) {
	o.mu.Lock()
	o.session, o.op = session, op
	o.mu.Unlock()
}

// TransactionDone implements executor.Observer.
func (o *TxObserver) TransactionDone(index int, sig solana.Signature, err error, latency time.Duration) {
	o.mu.Lock()
	session, op := o.session, o.op
	o.mu.Unlock()

	if o.rec != nil {
		o.rec.RecordTransaction(op, err, latency)
	}
	if o.pub == nil {
		return
	}
	typ := events.TransactionConfirmed
	if err != nil {
		typ = events.TransactionFailed
	}
	_ = o.pub.Publish(events.TransactionEvent{
		BaseEvent: events.NewBase(typ, session),
		Operation: op,
		Index:     index,
		Signature: sig,
		Latency:   latency,
		Err:       err,
	})
}
