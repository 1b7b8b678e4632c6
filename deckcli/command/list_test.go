package command

import (
	"testing"
	"time"

	"github.com/kubedeck/kubedeck/kubedeck"
	"github.com/stretchr/testify/assert"
)

func (t *Suite) TestStatusWord() {
	testCases := []struct {
		name   string
		status kubedeck.Status
		want   string
	}{
		{
			name:   "never refreshed",
			status: kubedeck.Status{},
			want:   "unknown",
		},
		{
			name: "online",
			status: kubedeck.Status{
				Online:      true,
				LastRefresh: time.Now(),
			},
			want: "online",
		},
		{
			name: "offline",
			status: kubedeck.Status{
				LastRefresh: time.Now(),
			},
			want: "offline",
		},
	}

	for _, testCase := range testCases {
		t.T().Run(testCase.name, func(tt *testing.T) {
			assert.Equal(tt, testCase.want, statusWord(testCase.status))
		})
	}
}
