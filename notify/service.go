// Package notify is the webhook ingress: the store posts change
// notifications here, we verify the signature and republish them on the
// broker for the worker. Nothing in here makes billing decisions.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/hs-interfase/rebill/broker"
	resp "github.com/hs-interfase/rebill/response"
)

type ServiceOptions struct {
	Producer broker.Producer
	Logger   *zap.Logger
	// Secret is the shared webhook signing secret configured in the store.
	Secret string
}

type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.Secret) == 0 {
		return nil, fmt.Errorf("empty Secret is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

type webhookEvent struct {
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
	ContractID string `json:"contractId"`
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest())
		return
	}

	if !s.verifySignature(r.Header.Get("X-Webhook-Signature"), body) {
		s.Logger.Warn("Rejected webhook with bad signature",
			zap.String("RemoteAddr", r.RemoteAddr),
		)
		resp.WriteError(w, r, resp.ErrBadSignature())
		return
	}

	var events []webhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	accepted := 0
	for _, ev := range events {
		contractID := ev.ContractID
		if contractID == "" && ev.ObjectType == "contract" {
			contractID = ev.ObjectID
		}
		if contractID == "" {
			continue
		}
		if err := s.Producer.SendChangeNotification(&broker.ChangeNotification{
			ContractID: contractID,
			ObjectType: ev.ObjectType,
			OccurredAt: time.Now(),
		}); err != nil {
			s.Logger.Error("Unable to publish change notification",
				zap.String("ContractID", contractID),
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to enqueue notification"))
			return
		}
		accepted++
	}

	resp.WriteResponse(w, r, map[string]int{"accepted": accepted})
}

func (s *Service) verifySignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Router will return the routes under the webhook ingress
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/changes", s.handleWebhook)
	r.Get("/healthz", s.healthz)
	return r
}
