// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// privchatNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	privchatNamespace = "privchat"

	// 以下为当前使用的通用标签名。
	eventLabelName  = "event"
	resultLabelName = "result"
	stageLabelName  = "stage"
	opLabelName     = "op"
	backendLabel    = "backend"
	methodLabelName = "method"
	routeLabelName  = "route"
	codeLabelName   = "code"

	SuccessLabel = "success"
	FailLabel    = "fail"
	InputLabel   = "input_error"
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：[1 2 4 8 ... 32768]
	buckets = prometheus.ExponentialBuckets(1, 2, 16)

	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回当前使用的 Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 将全部指标注册到 r，通常在进程启动时调用一次。
func Register(r prometheus.Registerer) {
	r.MustRegister(ConnectedSessions)
	r.MustRegister(OnlineUsers)
	r.MustRegister(InboundEvents)
	r.MustRegister(OutboundEvents)
	r.MustRegister(DroppedEvents)
	r.MustRegister(EventLatency)
	r.MustRegister(StoreLatency)
	r.MustRegister(NetworkErrors)
	r.MustRegister(HTTPRequests)
	r.MustRegister(HTTPLatency)
	metricRegisterer = r
}
