package handlers

// LogEntry is one parsed activity-log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// LogsRequest represents the request parameters for retrieving logs
type LogsRequest struct {
	// Specify the pagination token from a previous request to retrieve the next page of results.
	StartingToken int64 `form:"startingToken" binding:"min=0"`
	// The maximum number of logs to return in one page of results.
	MaxResults int `form:"maxResults" binding:"omitempty,min=1,max=1000"`
}

// LogsResponse represents the response for retrieving logs
type LogsResponse struct {
	// A list of log items.
	Logs []LogEntry `json:"logs"`
	// A pagination token to retrieve the next page of logs.
	NextToken int64 `json:"nextToken"`
	// Whether more logs follow the returned page.
	HasMore bool `json:"hasMore"`
}
