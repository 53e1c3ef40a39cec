// Package search 实现搜索调度器
//
// 调度器由固定数量的重试层组成，每层是一个带独立锁的侵入式双向链表。
// 每个条目记录自己所在的层与链表元素，移除为 O(1)。
//
// 周期性基础节拍驱动调度：第 i 层的周期为 InitialInterval * GrowthFactor^i
// （上限 MaxInterval），到期的层从队首取出至多 BatchSize 个条目，
// 把名称打包进不超过 MaxUDPSend 字节的数据报发送，再按重试预算放回同层或下一层。
//
// 信标异常触发 Sweep：所有条目回到第 0 层并重置预算。
package search
