package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/crawler"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

const defaultHistoryLimit = 20

var errUnavailable = echo.NewHTTPError(http.StatusServiceUnavailable, "service not configured")

func (s *Server) handleScrape(c echo.Context) error {
	var req ScrapeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and url are required")
	}
	scraper := s.registry.Scraper()
	if scraper == nil {
		return errUnavailable
	}
	if err := scraper.Scrape(c.Request().Context(), req.UserID, req.URL); err != nil {
		return s.apiError(c, "scrape failed", err)
	}
	return c.JSON(http.StatusOK, ScrapeResponse{Message: "url scraped, indexing in background", URL: req.URL})
}

func (s *Server) handleCrawl(c echo.Context) error {
	var req CrawlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and url are required")
	}
	if req.Depth == 0 {
		req.Depth = 1
	}
	svc := s.registry.Crawler()
	if svc == nil {
		return errUnavailable
	}
	job, err := svc.StartCrawl(c.Request().Context(), req.UserID, req.URL, req.Depth)
	if err != nil {
		return s.apiError(c, "crawl request failed", err)
	}
	return c.JSON(http.StatusAccepted, CrawlResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleCrawlStatus(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter is required")
	}
	st := s.registry.Store()
	if st == nil {
		return errUnavailable
	}
	job, err := st.GetJob(c.Request().Context(), c.Param("job_id"), userID)
	if err != nil {
		return s.apiError(c, "job lookup failed", err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleCreateUser(c echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	svc := s.registry.Users()
	if svc == nil {
		return errUnavailable
	}
	user := &store.User{ID: req.UserID, Email: req.Email, Name: req.Name}
	n, err := svc.Create(c.Request().Context(), user)
	if err != nil {
		return s.apiError(c, "user creation failed", err)
	}
	return c.JSON(http.StatusCreated, CreateUserResponse{User: user, Transferred: n})
}

func (s *Server) handleGetUser(c echo.Context) error {
	svc := s.registry.Users()
	if svc == nil {
		return errUnavailable
	}
	ctx := c.Request().Context()
	user, err := svc.Get(ctx, c.Param("user_id"))
	if err != nil {
		return s.apiError(c, "user lookup failed", err)
	}
	return c.JSON(http.StatusOK, UserResponse{User: user, Counts: CountLists(ctx, s.registry.Store(), user.ID)})
}

func (s *Server) handleList(kind store.ListKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		st := s.registry.Store()
		if st == nil {
			return errUnavailable
		}
		userID := c.Param("user_id")
		items, err := st.List(c.Request().Context(), userID, kind)
		if err != nil {
			return s.apiError(c, "list lookup failed", err)
		}
		if items == nil {
			items = []string{}
		}
		return c.JSON(http.StatusOK, ListResponse{UserID: userID, Items: items})
	}
}

func (s *Server) handleQueryHistory(c echo.Context) error {
	st := s.registry.Store()
	if st == nil {
		return errUnavailable
	}
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	userID := c.Param("user_id")
	recs, err := st.RecentQueries(c.Request().Context(), userID, limit)
	if err != nil {
		return s.apiError(c, "query history lookup failed", err)
	}
	resp := QueryHistoryResponse{UserID: userID, Queries: make([]QueryHistItem, 0, len(recs))}
	for _, r := range recs {
		resp.Queries = append(resp.Queries, QueryHistItem{Query: r.Query, Answer: r.Answer, Kind: r.Kind, CreatedAt: r.CreatedAt})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDocuments(c echo.Context) error {
	svc := s.registry.Ingest()
	if svc == nil {
		return errUnavailable
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form expected")
	}
	userID := c.FormValue("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	headers := append(form.File["files"], form.File["files[]"]...)
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded")
	}

	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, ingest.File{Name: fh.Filename, Open: func() (io.ReadCloser, error) { return fh.Open() }})
	}
	processed, err := svc.Ingest(c.Request().Context(), userID, files)
	if err != nil {
		return s.apiError(c, "document ingestion failed", err)
	}
	return c.JSON(http.StatusOK, DocumentsResponse{Processed: processed})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	svc := s.registry.Chat()
	if svc == nil {
		return errUnavailable
	}
	ans, err := svc.Answer(c.Request().Context(), req)
	if err != nil {
		return s.apiError(c, "query failed", err)
	}
	return c.JSON(http.StatusOK, ans)
}

func (s *Server) handleChunks(c echo.Context) error {
	var req ChunksRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ix := s.registry.Indexer()
	if ix == nil {
		return errUnavailable
	}
	chunks, err := ix.Chunks(c.Request().Context(), req.Text)
	if err != nil {
		return s.apiError(c, "chunking failed", err)
	}
	if chunks == nil {
		chunks = []string{}
	}
	return c.JSON(http.StatusOK, ChunksResponse{Chunks: chunks})
}

// apiError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without detail.
func (s *Server) apiError(c echo.Context, msg string, err error) error {
	var (
		unsupported *extract.UnsupportedFormatError
		extraction  *extract.ExtractionError
	)
	switch {
	case errors.Is(err, crawler.ErrInvalidURL),
		errors.Is(err, crawler.ErrInvalidDepth),
		errors.Is(err, chat.ErrEmptyQuery),
		errors.Is(err, ingest.ErrNoFiles),
		errors.As(err, &unsupported):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	case errors.As(err, &extraction):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})
	case errors.Is(err, store.ErrJobNotFound), errors.Is(err, store.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})
	case errors.Is(err, store.ErrUserExists):
		return c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error()})
	case errors.Is(err, crawler.ErrScrapeStatus), errors.Is(err, crawler.ErrPageUnreachable):
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: err.Error()})
	}

	s.logger.Error(msg,
		zap.String("path", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: strings.ToUpper(msg[:1]) + msg[1:]})
}
