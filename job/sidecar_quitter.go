package job

import (
	"io"
	"net/http"

	"github.com/pkg/errors"

	"inviqa/mqtt-outbox-relay/log"
)

type httpPoster interface {
	Post(url, contentType string, body io.Reader) (resp *http.Response, err error)
}

// SidecarQuitter tells a sidecar proxy to exit once a one-off job is done, so
// the pod running the job can complete.
type SidecarQuitter struct {
	QuitSidecar     bool
	Client          httpPoster
	sidecarProxyUrl string
}

func (s *SidecarQuitter) EnableSideCarProxyQuit(proxyUrl string) {
	s.QuitSidecar = true
	s.sidecarProxyUrl = proxyUrl
}

// QuitIfEnabled quits the sidecar when enabled. A job error takes precedence
// over a quit error.
func (s *SidecarQuitter) QuitIfEnabled(jobErr error) error {
	if !s.QuitSidecar {
		return jobErr
	}

	if err := s.Quit(); err != nil && jobErr == nil {
		return err
	}

	return jobErr
}

func (s *SidecarQuitter) Quit() error {
	url := s.sidecarProxyUrl + "/quitquitquit"
	resp, err := s.Client.Post(url, "text/plain", nil)
	if err != nil {
		log.Logger.WithError(err).Error("unexpected error received from sidecar proxy /quitquitquit")
		return err
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err := errors.Errorf("job: sidecar proxy responded with status %d", resp.StatusCode)
		log.Logger.WithField("url", url).WithError(err).Error("sidecar proxy refused to quit")
		return err
	}

	return nil
}
