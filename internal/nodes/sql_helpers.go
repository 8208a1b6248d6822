package nodes

import (
	"database/sql"
	"encoding/json"
)

// defaultString returns s unless it is empty, in which case it returns def.
func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// scanSQLRows materializes a *sql.Rows result set into the
// {"rows": [...], "count": n} shape shared by the SQL-backed nodes,
// ported from the teacher's MySQLNode.scanRows.
func scanSQLRows(rows *sql.Rows) (map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				var jsonVal interface{}
				if err := json.Unmarshal(b, &jsonVal); err == nil {
					row[col] = jsonVal
				} else {
					row[col] = string(b)
				}
			} else {
				row[col] = val
			}
		}
		results = append(results, row)
	}

	return map[string]interface{}{
		"rows":  results,
		"count": len(results),
	}, rows.Err()
}
