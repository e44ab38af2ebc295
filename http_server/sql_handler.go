package http_server

import (
	"net/http"
	"time"

	"github.com/danthegoodman1/deltabase/store"
	"github.com/danthegoodman1/deltabase/utils"
)

type (
	SQLReqBody struct {
		Query string `validate:"required"`
		// records or frame, defaults to the store's output format
		Format string `validate:"omitempty,oneof=records frame"`
	}

	SQLResBody struct {
		Columns   []column `json:",omitempty"`
		Rows      any
		Ambiguous bool
		TimeMS    int64
	}
)

func (s *HTTPServer) SQLHandler(c *CustomContext) error {
	start := time.Now()
	var reqBody SQLReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}

	s.mu.Lock()
	res, err := s.store.SQL(c.Request().Context(), reqBody.Query)
	s.mu.Unlock()
	if err != nil {
		return c.StoreError(err, "error running query")
	}

	format := res.Format
	if reqBody.Format != "" {
		format = store.OutputFormat(reqBody.Format)
	}
	body := SQLResBody{Ambiguous: res.Ambiguous}
	if format == store.OutputFrame {
		for _, col := range res.Frame.Schema {
			body.Columns = append(body.Columns, column{Name: col.Name, Type: col.Type})
		}
		body.Rows = utils.ArrayOrEmpty(res.Frame.Rows)
	} else {
		body.Rows = utils.ArrayOrEmpty(res.Records())
	}
	body.TimeMS = time.Since(start).Milliseconds()
	return c.JSON(http.StatusOK, body)
}
