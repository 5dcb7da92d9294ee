package processors

// Span status codes shared with the ingestion side. Only the successful
// statuses excluded by failure_rate are needed here.
var spanStatusCodes = map[string]int{
	"ok":        0,
	"cancelled": 1,
	"unknown":   2,
}

// ApdexProcessor returns the custom function expanding
// apdex(column, satisfied) into the countIf-based ratio expression.
func ApdexProcessor(columns ColumnSet) *CustomFunction {
	return MustSimpleFunction(
		"apdex",
		[]SignatureParam{
			ColumnParam("column", "UInt8", "UInt16", "UInt32", "UInt64"),
			LiteralParam("satisfied", LiteralInt),
		},
		"divide(plus(countIf(lessOrEquals(column, satisfied)), divide(countIf(and(greater(column, satisfied), lessOrEquals(column, multiply(satisfied, 4)))), 2)), count())",
		columns,
	)
}

// FailureRateProcessor returns the partial custom function expanding
// failure_rate() into the ratio of transactions whose status is neither
// ok, cancelled nor unknown.
//
// and(notEquals...) is used instead of in(tuple(...)) because an impossible
// query can set transaction_status to NULL, and the store rejects
// NULL in (0, 1, 2).
func FailureRateProcessor(columns ColumnSet) *CustomFunction {
	statuses := []string{"ok", "cancelled", "unknown"}
	constants := make([]Constant, 0, len(statuses))
	for _, status := range statuses {
		constants = append(constants, Constant{Name: status, Value: spanStatusCodes[status]})
	}
	return MustPartialFunction(
		"failure_rate",
		nil,
		"divide(countIf(and(notEquals(transaction_status, ok), and(notEquals(transaction_status, cancelled), notEquals(transaction_status, unknown)))), count())",
		constants,
		columns,
	)
}
