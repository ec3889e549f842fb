package chat

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/campusnet/forum/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"
)

// UserHeader carries the caller identity established by the upstream
// authentication layer.
const UserHeader = "X-User-ID"

const maxJSONBody = 1 << 20

type Handler struct {
	service   *Service
	maxUpload int64
	logger    *zap.Logger
}

func NewHandler(service *Service, maxUpload int64, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/forums/{forumID}/messages", h.ListTopLevel).Methods(http.MethodGet)
	r.HandleFunc("/forums/{forumID}/messages", h.PostMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{messageID}", h.GetMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{messageID}", h.DeleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{messageID}/replies", h.ListReplies).Methods(http.MethodGet)
	r.HandleFunc("/messages/{messageID}/replies", h.PostReply).Methods(http.MethodPost)
	r.HandleFunc("/messages/{messageID}/votes", h.Vote).Methods(http.MethodPost)
}

type pollBody struct {
	Question string   `json:"question"`
	Mode     string   `json:"mode"`
	Options  []string `json:"options"`
}

type postBody struct {
	Kind string    `json:"kind"`
	Body string    `json:"body"`
	Poll *pollBody `json:"poll"`
}

func (b *postBody) Validate() error {
	if b.Kind == "" {
		return errors.InvalidArgument("kind is required")
	}
	return nil
}

type voteBody struct {
	OptionIndex *int `json:"optionIndex"`
}

func (b *voteBody) Validate() error {
	if b.OptionIndex == nil {
		return errors.InvalidArgument("optionIndex is required")
	}
	return nil
}

func (h *Handler) ListTopLevel(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := h.service.ListTopLevel(r.Context(), mux.Vars(r)["forumID"], page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListReplies(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := h.service.ListReplies(r.Context(), mux.Vars(r)["messageID"], page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.GetMessage(r.Context(), mux.Vars(r)["messageID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	req, err := h.readPost(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg, err := h.service.PostMessage(r.Context(), mux.Vars(r)["forumID"], req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) PostReply(w http.ResponseWriter, r *http.Request) {
	req, err := h.readPost(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg, err := h.service.PostReply(r.Context(), mux.Vars(r)["messageID"], req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var body voteBody
	if err := middleware.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	msg, err := h.service.Vote(r.Context(), mux.Vars(r)["messageID"], r.Header.Get(UserHeader), *body.OptionIndex)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMessage(r.Context(), mux.Vars(r)["messageID"], r.Header.Get(UserHeader)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readPost accepts either a JSON body or a multipart form whose "file" part
// is the upload for file and audio messages.
func (h *Handler) readPost(w http.ResponseWriter, r *http.Request) (PostRequest, error) {
	req := PostRequest{AuthorID: r.Header.Get(UserHeader)}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+maxJSONBody)
		if err := r.ParseMultipartForm(maxJSONBody); err != nil {
			return req, errors.InvalidArgument("malformed multipart form")
		}

		req.Kind = messaging.Kind(r.FormValue("kind"))
		req.Payload.Body = r.FormValue("body")

		file, header, err := r.FormFile("file")
		if err == http.ErrMissingFile {
			return req, nil
		}
		if err != nil {
			return req, errors.InvalidArgument("malformed file part")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return req, errors.InvalidArgument("failed to read upload")
		}
		req.Upload = &Upload{
			Data:         data,
			OriginalName: header.Filename,
			MimeType:     header.Header.Get("Content-Type"),
		}
		return req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var body postBody
	if err := middleware.DecodeJSON(r, &body); err != nil {
		return req, err
	}

	req.Kind = messaging.Kind(body.Kind)
	req.Payload.Body = body.Body
	if body.Poll != nil {
		req.Payload.Poll = &messaging.PollDefinition{
			Question: body.Poll.Question,
			Mode:     messaging.PollMode(body.Poll.Mode),
			Options:  body.Poll.Options,
		}
	}
	return req, nil
}

func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	return page, pageSize
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.HTTPStatus(err)
	st := status.Convert(errors.ToGRPCError(err))
	body := errorBody{Error: "internal error", Code: st.Code().String()}

	if code < http.StatusInternalServerError {
		body.Error = st.Message()
	} else {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", logging.GetRequestID(r.Context())),
			zap.Error(err),
		)
		if code == http.StatusBadGateway {
			body.Error = st.Message()
		}
	}

	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
