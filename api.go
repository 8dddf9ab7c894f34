package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/villagaiaimpacthub/hive/plan"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

// HiveApi is the http client for the plan endpoints.
type HiveApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewHiveApi(apiUrl string) *HiveApi {
	return NewHiveApiWithContext(context.Background(), apiUrl)
}

func NewHiveApiWithContext(ctx context.Context, apiUrl string) *HiveApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &HiveApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *HiveApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type PlanParseCallback apiCallback[*plan.ParseResult]

func (self *HiveApi) PlanParse(args *PlanParseArgs, callback PlanParseCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/plans/parse", self.apiUrl),
		args,
		self.byJwt,
		&plan.ParseResult{},
		callback,
	)
}

func (self *HiveApi) PlanParseSync(args *PlanParseArgs) (*plan.ParseResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/plans/parse", self.apiUrl),
		args,
		self.byJwt,
		&plan.ParseResult{},
		NewNoopApiCallback[*plan.ParseResult](),
	)
}

type PlanConfirmCallback apiCallback[*PlanConfirmResult]

func (self *HiveApi) PlanConfirm(preview *plan.ParseResult, callback PlanConfirmCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/plans/confirm", self.apiUrl),
		preview,
		self.byJwt,
		&PlanConfirmResult{},
		callback,
	)
}

func (self *HiveApi) PlanConfirmSync(preview *plan.ParseResult) (*PlanConfirmResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/plans/confirm", self.apiUrl),
		preview,
		self.byJwt,
		&PlanConfirmResult{},
		NewNoopApiCallback[*PlanConfirmResult](),
	)
}

func (self *HiveApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
