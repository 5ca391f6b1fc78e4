package source

// SetMaxBodyBytes 测试中缩小响应体上限
func (s *RemoteSource) SetMaxBodyBytes(n int64) { s.maxBody = n }
