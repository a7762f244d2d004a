package mq

import (
	"log"

	"escrowsystem/internal/config"

	"github.com/IBM/sarama"
)

var KafkaProducer sarama.SyncProducer

// InitKafka 初始化 Kafka 生产者
//
// 【关键点】托管事件是下游（通知、对账、风控）的资金状态依据，不允许丢：
// 同步生产者 + WaitForAll，消息先落发件箱表、由 OutboxSender 投递，
// 这里只需保证"发出即所有副本确认"
func InitKafka(cfg *config.KafkaConfig) sarama.SyncProducer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 所有副本确认后才算发送成功
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true // 同步模式必须开启

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("创建 Kafka 生产者失败: %v", err)
	}

	KafkaProducer = producer
	log.Printf("Kafka 生产者创建成功: brokers=%v, topic=%s", cfg.Brokers, cfg.Topic.EscrowEvents)
	return producer
}

// SendMessage 发送一条托管事件
// key 为托管单号：同一托管单的事件落在同一分区，消费方按序看到生命周期流转
func SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := KafkaProducer.SendMessage(msg)
	return err
}

// CloseKafka 关闭 Kafka 生产者
func CloseKafka() {
	if KafkaProducer != nil {
		KafkaProducer.Close()
	}
}
