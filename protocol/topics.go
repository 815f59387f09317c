package protocol

// TradeTopic returns the PUB/SUB topic name carrying trade events for symbol.
func TradeTopic(symbol string) string {
	return "trades." + symbol
}

// DepthTopic returns the PUB/SUB topic name carrying depth updates for symbol.
func DepthTopic(symbol string) string {
	return "depth." + symbol
}

// StatusTopic returns the PUB/SUB topic name carrying engine status updates.
func StatusTopic() string {
	return "status"
}
