// Package providermock holds a hand-maintained stand-in for mockgen's
// generated output, in the same shape `//go:generate mockgen` produces in
// Chapter12/dbspgraph (Controller + recorder + EXPECT()), covering
// provider.Driver for tests that need to assert exact Submit/Cancel call
// sequences without running a real subprocess.
package providermock

import (
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/parallex/htexec/provider"
)

// MockDriver is a mock of the provider.Driver interface.
type MockDriver struct {
	ctrl     *gomock.Controller
	recorder *MockDriverMockRecorder
}

// MockDriverMockRecorder is the mock recorder for MockDriver.
type MockDriverMockRecorder struct {
	mock *MockDriver
}

// NewMockDriver creates a new mock instance.
func NewMockDriver(ctrl *gomock.Controller) *MockDriver {
	m := &MockDriver{ctrl: ctrl}
	m.recorder = &MockDriverMockRecorder{m}
	return m
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockDriver) EXPECT() *MockDriverMockRecorder {
	return m.recorder
}

func (m *MockDriver) Submit() (string, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Submit")
	ret0, _ := ret[0].(string)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

func (mr *MockDriverMockRecorder) Submit() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Submit", reflect.TypeOf((*MockDriver)(nil).Submit))
}

func (m *MockDriver) Cancel(id string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Cancel", id)
	ret0, _ := ret[0].(error)
	return ret0
}

func (mr *MockDriverMockRecorder) Cancel(id interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Cancel", reflect.TypeOf((*MockDriver)(nil).Cancel), id)
}

func (m *MockDriver) Status() []provider.BlockStatus {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Status")
	ret0, _ := ret[0].([]provider.BlockStatus)
	return ret0
}

func (mr *MockDriverMockRecorder) Status() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Status", reflect.TypeOf((*MockDriver)(nil).Status))
}

func (m *MockDriver) Label() string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Label")
	ret0, _ := ret[0].(string)
	return ret0
}

func (mr *MockDriverMockRecorder) Label() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Label", reflect.TypeOf((*MockDriver)(nil).Label))
}

var _ provider.Driver = (*MockDriver)(nil)
