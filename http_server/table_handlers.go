package http_server

import (
	"net/http"
	"time"

	"github.com/danthegoodman1/deltabase/store"
)

type (
	tableRef struct {
		Namespace string
		Name      string
	}

	column struct {
		Name string
		Type string
	}

	version struct {
		Version     int64
		CommittedAt time.Time
		Operation   string
		Tag         string `json:",omitempty"`
		Force       bool
		Columns     []column
		PartitionBy []string `json:",omitempty"`
		Files       int
		Rows        int64
	}

	CommitReqBody struct {
		Force       bool
		PartitionBy []string
		Tag         string
	}

	CheckoutReqBody struct {
		// An ordinal, RFC3339 time or tag
		Version string `validate:"required"`
	}

	DeleteReqBody struct {
		// SQL boolean expression, "*" or empty removes the table from the registry
		Filter string
	}
)

func (s *HTTPServer) ListTables(c *CustomContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := []tableRef{}
	for _, id := range s.store.Tables() {
		tables = append(tables, tableRef{Namespace: id.Namespace, Name: id.Name})
	}
	return c.JSON(http.StatusOK, tables)
}

func (s *HTTPServer) GetSchema(c *CustomContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaResponse(c)
}

// schemaResponse writes the registered schema of the path's table. mu must be held.
func (s *HTTPServer) schemaResponse(c *CustomContext) error {
	schema, ok := s.store.Schema(c.TableID())
	if !ok {
		return c.String(http.StatusNotFound, "table not registered")
	}
	columns := make([]column, len(schema))
	for i, col := range schema {
		columns[i] = column{Name: col.Name, Type: col.Type}
	}
	return c.JSON(http.StatusOK, columns)
}

func (s *HTTPServer) ListVersions(c *CustomContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, err := s.store.History(c.Request().Context(), c.TableID())
	if err != nil {
		return c.StoreError(err, "error listing versions")
	}
	out := make([]version, len(versions))
	for i, v := range versions {
		cols := make([]column, len(v.Columns))
		for j, col := range v.Columns {
			cols[j] = column{Name: col.Name, Type: col.Type}
		}
		out[i] = version{
			Version:     v.Version,
			CommittedAt: v.CommittedAt,
			Operation:   v.Operation,
			Tag:         v.Tag,
			Force:       v.Force,
			Columns:     cols,
			PartitionBy: v.PartitionBy,
			Files:       len(v.Parts),
			Rows:        v.RowCount(),
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *HTTPServer) CommitHandler(c *CustomContext) error {
	var reqBody CommitReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.store.Commit(c.Request().Context(), c.TableID(), store.CommitOptions{
		Force:       reqBody.Force,
		PartitionBy: reqBody.PartitionBy,
		Tag:         reqBody.Tag,
	})
	if err != nil {
		return c.StoreError(err, "error committing")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) CheckoutHandler(c *CustomContext) error {
	var reqBody CheckoutReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}
	sel, err := store.ParseSelector(reqBody.Version)
	if err != nil {
		return c.StoreError(err, "error parsing version")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Checkout(c.Request().Context(), c.TableID(), sel); err != nil {
		return c.StoreError(err, "error checking out")
	}
	return s.schemaResponse(c)
}

func (s *HTTPServer) DeleteHandler(c *CustomContext) error {
	var reqBody DeleteReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}
	filter := store.All
	if reqBody.Filter != "" {
		filter = store.Expr(reqBody.Filter)
	}
	return s.delete(c, filter)
}

func (s *HTTPServer) DropTableHandler(c *CustomContext) error {
	return s.delete(c, store.All)
}

func (s *HTTPServer) delete(c *CustomContext, filter store.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(c.Request().Context(), c.TableID(), filter); err != nil {
		return c.StoreError(err, "error deleting")
	}
	return c.NoContent(http.StatusNoContent)
}
