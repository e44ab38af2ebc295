package http_server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/store"
)

type (
	RowsBody struct {
		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON
		Rows []map[string]any
	}

	UpsertReqBody struct {
		// The merge key column
		Key string `validate:"required"`
		RowsBody
	}

	RegisterReqBody struct {
		RowsBody
		// Version to load when no rows are given: an ordinal, RFC3339 time or tag.
		// Defaults to the latest version.
		Version *string
	}

	RegisterFromReqBody struct {
		Connector string `validate:"required"`
		Query     string `validate:"required"`
	}

	UpsertStats struct {
		NumRows int64
		TimeMS  int64
	}
)

// input parses the rows of the body, nil if none were given.
func (b RowsBody) input() (store.Input, int64, error) {
	var rows []any
	if b.RowsString != nil {
		ndJSONScanner := bufio.NewScanner(strings.NewReader(*b.RowsString))
		ndJSONScanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for ndJSONScanner.Scan() {
			line := strings.TrimSpace(ndJSONScanner.Text())
			if line == "" {
				continue
			}
			dec := json.NewDecoder(strings.NewReader(line))
			dec.UseNumber()
			var raw any
			if err := dec.Decode(&raw); err != nil {
				return nil, 0, fmt.Errorf("error in json.Unmarshal: %w", err)
			}
			if _, ok := raw.(map[string]any); !ok {
				return nil, 0, fmt.Errorf("line was not a JSON object")
			}
			rows = append(rows, raw)
		}
		if err := ndJSONScanner.Err(); err != nil {
			return nil, 0, fmt.Errorf("error scanning rows: %w", err)
		}
	}
	for _, row := range b.Rows {
		rows = append(rows, row)
	}
	if rows == nil {
		return nil, 0, nil
	}
	in, err := store.AsInput(rows)
	return in, int64(len(rows)), err
}

func (s *HTTPServer) UpsertHandler(c *CustomContext) error {
	start := time.Now()
	var reqBody UpsertReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}
	in, n, err := reqBody.input()
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if in == nil {
		return c.String(http.StatusBadRequest, "no rows given")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Upsert(c.Request().Context(), c.TableID(), reqBody.Key, in); err != nil {
		return c.StoreError(err, "error upserting")
	}
	zerolog.Ctx(c.Request().Context()).Debug().Int64("rows", n).Msg("upserted rows")
	return c.JSON(http.StatusOK, UpsertStats{NumRows: n, TimeMS: time.Since(start).Milliseconds()})
}

func (s *HTTPServer) RegisterHandler(c *CustomContext) error {
	var reqBody RegisterReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}
	in, _, err := reqBody.input()
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	opts := store.RegisterOptions{Data: in}
	if reqBody.Version != nil {
		sel, err := store.ParseSelector(*reqBody.Version)
		if err != nil {
			return c.StoreError(err, "error parsing version")
		}
		opts.Version = sel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Register(c.Request().Context(), c.TableID(), opts); err != nil {
		return c.StoreError(err, "error registering")
	}
	return s.schemaResponse(c)
}

func (s *HTTPServer) RegisterFromHandler(c *CustomContext) error {
	var reqBody RegisterFromReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.RegisterFrom(c.Request().Context(), reqBody.Connector, c.TableID(), reqBody.Query); err != nil {
		return c.StoreError(err, "error registering from connector")
	}
	return s.schemaResponse(c)
}
