package core

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Handlers interface {
	GetEvents(gctx *gin.Context)
	GetEvent(gctx *gin.Context)
	GetMyEvents(gctx *gin.Context)
	PostConfirmation(gctx *gin.Context)
	DeleteConfirmation(gctx *gin.Context)
	PostEvents(gctx *gin.Context)
	PostReload(gctx *gin.Context)
	PostImport(gctx *gin.Context)
	GetImportStatus(gctx *gin.Context)
	GetConfirmations(gctx *gin.Context)
	DeleteConfirmationById(gctx *gin.Context)
}

type handlers struct {
	repository Repository
	catalog    Catalog
	attendance Attendance
	importer   Importer
}

func NewHandlers(repository Repository, catalog Catalog, attendance Attendance, importer Importer) Handlers {
	return &handlers{
		repository: repository,
		catalog:    catalog,
		attendance: attendance,
		importer:   importer,
	}
}

type CreateEventRequest struct {
	Title        string   `json:"title" binding:"required,max=100"`
	Description  string   `json:"description"`
	Date         string   `json:"date" binding:"required"`
	Time         string   `json:"time"`
	Location     string   `json:"location"`
	Category     string   `json:"category"`
	MaxAttendees *int     `json:"maxAttendees" binding:"required,min=0"`
	ImageUrl     *string  `json:"imageUrl"`
	Price        *float64 `json:"price"`
}

type ImportStatus struct {
	State    string   `json:"state"`
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// GetEvents lists the catalog in display order, flagged for the calling session.
func (h *handlers) GetEvents(gctx *gin.Context) {
	session, ok := h.session(gctx)
	if !ok {
		return
	}

	events := h.catalog.Events()

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, EventView{Event: e, Confirmed: session.Has(e.Id), IsFull: e.Full()})
	}

	gctx.JSON(http.StatusOK, views)
}

// GetMyEvents is the "my events" tab: the catalog filtered by the session's confirmations.
func (h *handlers) GetMyEvents(gctx *gin.Context) {
	session, ok := h.session(gctx)
	if !ok {
		return
	}

	views := []EventView{}

	for _, e := range h.catalog.Events() {
		if session.Has(e.Id) {
			views = append(views, EventView{Event: e, Confirmed: true, IsFull: e.Full()})
		}
	}

	gctx.JSON(http.StatusOK, views)
}

func (h *handlers) GetEvent(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	body, err := io.ReadAll(gctx.Request.Body)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to read request body")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to read request body", err))

		return
	}

	// GET requests carry no body
	if len(body) != 0 {
		log.Ctx(ctx).Error().Msg("request body is not empty")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("request body is not empty"))

		return
	}

	id := gctx.Param("id")
	if len(id) == 0 {
		log.Ctx(ctx).Error().Msg("parameter 'id' is required")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("parameter 'id' is required"))

		return
	}

	event, err := h.repository.GetEventById(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			log.Ctx(ctx).Info().Str("event", id).Msg("event not found")
			gctx.AbortWithStatusJSON(http.StatusNotFound, NewError("event not found", err))

			return
		}

		log.Ctx(ctx).Error().Err(err).Msg("getting event failed")
		gctx.AbortWithStatusJSON(http.StatusBadGateway, NewError("getting event failed", err))

		return
	}

	h.catalog.Put(*event)

	gctx.JSON(http.StatusOK, event)
}

func (h *handlers) PostConfirmation(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	session, ok := h.session(gctx)
	if !ok {
		return
	}

	event, err := h.attendance.Confirm(ctx, session, gctx.Param("id"))
	if err != nil {
		h.fail(gctx, "confirming attendance failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, EventView{Event: *event, Confirmed: true, IsFull: event.Full()})
}

func (h *handlers) DeleteConfirmation(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	session, ok := h.session(gctx)
	if !ok {
		return
	}

	event, err := h.attendance.Cancel(ctx, session, gctx.Param("id"))
	if err != nil {
		h.fail(gctx, "cancelling attendance failed", err)
		return
	}

	gctx.JSON(http.StatusOK, EventView{Event: *event, Confirmed: false, IsFull: event.Full()})
}

func (h *handlers) PostEvents(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	var request CreateEventRequest

	err := gctx.ShouldBindJSON(&request)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to bind JSON")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to bind JSON", err))

		return
	}

	event := Event{
		Title:        strings.TrimSpace(request.Title),
		Description:  request.Description,
		Date:         request.Date,
		Time:         request.Time,
		Location:     request.Location,
		Category:     request.Category,
		MaxAttendees: *request.MaxAttendees,
		ImageUrl:     request.ImageUrl,
		Price:        request.Price,
	}

	err = ValidateEvent(event)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("event validation failed")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("event validation failed", err))

		return
	}

	saved, err := h.repository.SaveEvent(ctx, &event)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("saving event failed")
		gctx.AbortWithStatusJSON(http.StatusBadGateway, NewError("saving event failed", err))

		return
	}

	h.catalog.Put(*saved)

	gctx.JSON(http.StatusCreated, saved)
}

func (h *handlers) PostReload(gctx *gin.Context) {
	err := h.catalog.Load(gctx.Request.Context())
	if err != nil {
		h.fail(gctx, "loading events failed", err)
		return
	}

	gctx.JSON(http.StatusOK, gin.H{"events": len(h.catalog.Events())})
}

func (h *handlers) PostImport(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	header, err := gctx.FormFile("file")
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("csv file is required")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("csv file is required", err))

		return
	}

	file, err := header.Open()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open uploaded file")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to open uploaded file", err))

		return
	}
	defer file.Close()

	result, err := h.importer.Import(ctx, Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     file,
	})
	if err != nil {
		h.fail(gctx, "importing events failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, result)
}

func (h *handlers) GetImportStatus(gctx *gin.Context) {
	gctx.JSON(http.StatusOK, ImportStatus{
		State:    h.importer.State().String(),
		Required: RequiredColumns,
		Optional: OptionalColumns,
	})
}

func (h *handlers) GetConfirmations(gctx *gin.Context) {
	report, err := h.attendance.Confirmations(gctx.Request.Context())
	if err != nil {
		h.fail(gctx, "loading confirmations failed", err)
		return
	}

	gctx.JSON(http.StatusOK, report)
}

func (h *handlers) DeleteConfirmationById(gctx *gin.Context) {
	revocation, err := h.attendance.Revoke(gctx.Request.Context(), gctx.Param("id"))
	if err != nil {
		h.fail(gctx, "deleting confirmation failed", err)
		return
	}

	gctx.JSON(http.StatusOK, revocation.Confirmation)
}

func (h *handlers) session(gctx *gin.Context) (*Session, bool) {
	session, ok := SessionFrom(gctx)
	if !ok {
		log.Ctx(gctx.Request.Context()).Error().Msg("request has no session")
		gctx.AbortWithStatusJSON(http.StatusInternalServerError, NewError("request has no session"))
	}

	return session, ok
}

func (h *handlers) fail(gctx *gin.Context, message string, err error) {
	status := StatusOf(err)

	event := log.Ctx(gctx.Request.Context()).Error()
	if status < http.StatusInternalServerError {
		event = log.Ctx(gctx.Request.Context()).Info()
	}

	event.Err(err).Int("status", status).Msg(message)

	gctx.AbortWithStatusJSON(status, NewError(message, err))
}

// StatusOf maps an error from the core to the HTTP status it is reported with.
func StatusOf(err error) int {
	var missing *MissingColumnsError

	switch {
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrConfirmationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEventFull), errors.Is(err, ErrImportInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrTooFewRows), errors.Is(err, ErrMalformedCSV), errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.Is(err, ErrCatalogLoad), errors.Is(err, ErrImportFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
