package bms

import (
	"github.com/temoto/dalybms/protocol"
)

// exchange tries up to retries times with fixed pause between attempts.
func (self *Client) exchange(req protocol.Request) ([][]byte, error) {
	var last error
	for attempt := 1; attempt <= self.retries; attempt++ {
		payloads, err := self.ex.Exchange(req)
		if err == nil {
			return payloads, nil
		}
		last = err
		self.log.Debugf("%s attempt=%d/%d err=%v", req.Command, attempt, self.retries, err)
		if attempt < self.retries {
			self.sleep(self.retryDelay)
		}
	}
	err := protocol.RequestFailed{Command: req.Command, Attempts: self.retries, Last: last}
	self.log.Error(err)
	return nil, err
}
