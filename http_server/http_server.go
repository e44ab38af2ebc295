package http_server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/store"
)

var logger = gologger.NewLogger()

type HTTPServer struct {
	Echo *echo.Echo

	// the store is single writer, every handler holds mu
	mu    sync.Mutex
	store *store.Store
}

type CustomValidator struct {
	validator *validator.Validate
}

// NewHTTPServer builds the router over st without listening.
func NewHTTPServer(st *store.Store) *HTTPServer {
	s := &HTTPServer{
		Echo:  echo.New(),
		store: st,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.JSONSerializer = &NoEscapeJSONSerializer{}

	s.Echo.Use(CreateReqContext)
	s.Echo.Use(LoggerMiddleware)
	s.Echo.Use(middleware.CORS())
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	// technical - no auth
	s.Echo.GET("/hc", s.HealthCheck)

	s.Echo.POST("/sql", ccHandler(s.SQLHandler))

	tables := s.Echo.Group("/tables")
	tables.GET("", ccHandler(s.ListTables))
	tables.DELETE("/:ns/:table", ccHandler(s.DropTableHandler))
	tables.GET("/:ns/:table/schema", ccHandler(s.GetSchema))
	tables.GET("/:ns/:table/versions", ccHandler(s.ListVersions))
	tables.POST("/:ns/:table/register", ccHandler(s.RegisterHandler))
	tables.POST("/:ns/:table/register_from", ccHandler(s.RegisterFromHandler))
	tables.POST("/:ns/:table/upsert", ccHandler(s.UpsertHandler))
	tables.POST("/:ns/:table/delete", ccHandler(s.DeleteHandler))
	tables.POST("/:ns/:table/commit", ccHandler(s.CommitHandler))
	tables.POST("/:ns/:table/checkout", ccHandler(s.CheckoutHandler))

	return s
}

func StartHTTPServer(st *store.Store, port string) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return nil, fmt.Errorf("error creating tcp listener: %w", err)
	}
	s := NewHTTPServer(st)
	s.Echo.Listener = listener
	go func() {
		logger.Info().Msg("starting h2c server on " + listener.Addr().String())
		err := s.Echo.StartH2CServer("", &http2.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start h2c server, exiting")
		}
	}()

	return s, nil
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// ValidateRequest decodes the JSON body into s and validates it. Numbers
// are kept as json.Number so integers stay integers.
func ValidateRequest(c echo.Context, s interface{}) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	// an empty body is the zero request
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(s); err != nil {
		return err
	}
	return nil
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	return err
}

func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			// default handler
			c.Error(err)
		}
		stop := time.Since(start)
		// Log otherwise
		logger := zerolog.Ctx(c.Request().Context())
		req := c.Request()
		res := c.Response()

		p := req.URL.Path
		if p == "" {
			p = "/"
		}

		cl := req.Header.Get(echo.HeaderContentLength)
		if cl == "" {
			cl = "0"
		}
		logger.Debug().Str("method", req.Method).Str("remote_ip", c.RealIP()).Str("req_uri", req.RequestURI).Str("handler_path", c.Path()).Str("path", p).Int("status", res.Status).Int64("latency_ns", int64(stop)).Str("protocol", req.Proto).Str("bytes_in", cl).Int64("bytes_out", res.Size).Msg("req received")
		return nil
	}
}

type NoEscapeJSONSerializer struct{}

func (*NoEscapeJSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (*NoEscapeJSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if ute, ok := err.(*json.UnmarshalTypeError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unmarshal type error: expected=%v, got=%v, field=%v, offset=%v", ute.Type, ute.Value, ute.Field, ute.Offset)).SetInternal(err)
	} else if se, ok := err.(*json.SyntaxError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Syntax error: offset=%v, error=%v", se.Offset, se.Error())).SetInternal(err)
	}
	return err
}
