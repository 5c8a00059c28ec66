package newrelic

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

const publisherAttribute = "publisher"

type Attribute struct {
	Key   string
	Value interface{}
}

func Publisher(name string) Attribute {
	return Attribute{Key: publisherAttribute, Value: name}
}

// ContextWithTxn starts a transaction on app and stores it in the returned
// context. A nil app yields an inert transaction, so callers never check.
func ContextWithTxn(parent context.Context, name string, app *newrelic.Application, attrs ...Attribute) (context.Context, *newrelic.Transaction) {
	txn := &newrelic.Transaction{}
	if app != nil {
		txn = app.StartTransaction(name)
		for _, a := range attrs {
			txn.AddAttribute(a.Key, a.Value)
		}
	}

	return newrelic.NewContext(parent, txn), txn
}

// DatastoreSegment starts a datastore segment on the transaction held by ctx,
// if any. The returned segment must be ended by the caller.
func DatastoreSegment(ctx context.Context, product newrelic.DatastoreProduct, collection, operation string) *newrelic.DatastoreSegment {
	return &newrelic.DatastoreSegment{
		StartTime:  newrelic.FromContext(ctx).StartSegmentNow(),
		Product:    product,
		Collection: collection,
		Operation:  operation,
	}
}
