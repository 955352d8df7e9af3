/*
Copyright 2025 Klaspay Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package klaspay

import (
	"context"

	"github.com/klaspay/klaspay/model"
)

type MockKlaspay struct {
	Klaspay
	mockGetDedupRecord func(string) (*model.DedupRecord, error)
}

func (m *MockKlaspay) GetDedupRecord(resourceID string) (*model.DedupRecord, error) {
	if m.mockGetDedupRecord != nil {
		return m.mockGetDedupRecord(resourceID)
	}
	return m.Klaspay.GetDedupRecord(context.Background(), resourceID)
}
