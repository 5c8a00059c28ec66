package transform

import "github.com/pkg/errors"

// Router renders records of a kind for every topic bound to that kind.
type Router struct {
	topics map[Kind]Topics
}

func NewRouter(ts Topics) *Router {
	return &Router{
		topics: map[Kind]Topics{
			Loop:    ts.For(Loop),
			Archive: ts.For(Archive),
		},
	}
}

// Route renders the record for each bound topic. A topic that fails to
// render is reported in errs and does not prevent the others.
func (r *Router) Route(kind Kind, rec map[string]interface{}) (pubs []Publication, errs []error) {
	for _, t := range r.topics[kind] {
		p, err := t.Render(rec)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "topic %s", t.Name))
			continue
		}
		pubs = append(pubs, p...)
	}

	return pubs, errs
}

// Topics returns the topics bound to the kind.
func (r *Router) Topics(kind Kind) Topics {
	return r.topics[kind]
}
