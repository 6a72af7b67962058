package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/meishi-bot/meishi/internal/api"
	"github.com/meishi-bot/meishi/internal/pipeline"
	"github.com/meishi-bot/meishi/internal/svcctx"
)

// ConfirmRequest carries an encoded action token back to the server.
type ConfirmRequest struct {
	Token string `json:"token"`
}

// ConfirmResponse reports the deferred record creation.
type ConfirmResponse struct {
	RecordID string `json:"recordId"`
	Name     string `json:"name"`
}

// ConfirmEndpoint handles POST /api/cards/confirm. It performs the
// deferred write a duplicate verdict withheld earlier.
type ConfirmEndpoint struct{}

var _ api.Endpoint = (*ConfirmEndpoint)(nil)

func (e *ConfirmEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/cards/confirm", e.handler
}

func (e *ConfirmEndpoint) RequiresServices() bool { return true }

// handler godoc
//
//	@Summary		Confirm a withheld record
//	@Description	Create the record carried by an action token despite the duplicate warning
//	@Tags			cards
//	@Accept			json
//	@Produce		json
//	@Param			request	body	ConfirmRequest	true	"Encoded action token"
//	@Success		200	{object}	ConfirmResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		502	{object}	ErrorResponse
//	@Router			/api/cards/confirm [post]
func (e *ConfirmEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	tok, err := pipeline.ParseActionToken(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	proc := svcctx.PipelineFrom(r.Context())
	if proc == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	id, err := proc.Confirm(r.Context(), tok)
	if err != nil {
		if errors.Is(err, pipeline.ErrTokenChannelMissing) || errors.Is(err, pipeline.ErrTokenThreadMissing) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ConfirmResponse{RecordID: id, Name: tok.Data.Name})
}

func (e *ConfirmEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <token-file>",
		Short: "Confirm a withheld record from a saved action token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read token file: %w", err)
			}

			client := api.NewClient(getServerURL())
			var resp ConfirmResponse
			if err := client.Post(cmd.Context(), "/api/cards/confirm", ConfirmRequest{Token: string(raw)}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
